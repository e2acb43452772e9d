package protocol

// AsBroadcast re-tags an action into its broadcast counterpart. Any other
// message is returned unchanged.
func AsBroadcast(m Message) Message {
	switch v := m.(type) {
	case UpdatePlayer:
		return PlayerUpdated(v)
	case AddObject:
		return ObjectAdded(v)
	case UpdateObject:
		return ObjectUpdated(v)
	case RemoveObject:
		return ObjectRemoved(v)
	case Leave:
		return PlayerLeft(v)
	}
	return m
}

// AsAction re-tags a broadcast into the action a non-authoritative client
// sends to its authority. Any other message is returned unchanged.
func AsAction(m Message) Message {
	switch v := m.(type) {
	case PlayerUpdated:
		return UpdatePlayer(v)
	case ObjectAdded:
		return AddObject(v)
	case ObjectUpdated:
		return UpdateObject(v)
	case ObjectRemoved:
		return RemoveObject(v)
	case PlayerLeft:
		return Leave(v)
	}
	return m
}
