// Package world defines the scene collaborator the sync layer mutates, plus
// an in-memory implementation.
package world

import (
	"errors"
	"sort"
	"sync"

	"github.com/1ureka/worldlink/internal/protocol"
)

// ErrUnknownObject is returned when an update or removal names an object the
// scene does not hold.
var ErrUnknownObject = errors.New("unknown object")

// World is the surface the relay hub drives. Object updates carry full-state
// snapshots; the last write wins.
type World interface {
	AddObject(obj protocol.ObjectState) error
	RemoveObject(id string) error
	UpdateObject(obj protocol.ObjectState) error
	SetPlayerPose(playerID string, pos protocol.Vec3, rot protocol.Quat) error
	RemovePlayer(playerID string)
}

// Pose is a player avatar transform.
type Pose struct {
	Position protocol.Vec3
	Rotation protocol.Quat
}

// Scene is a thread-safe in-memory World.
type Scene struct {
	mu      sync.RWMutex
	objects map[string]protocol.ObjectState
	poses   map[string]Pose
}

func NewScene() *Scene {
	return &Scene{
		objects: make(map[string]protocol.ObjectState),
		poses:   make(map[string]Pose),
	}
}

// AddObject inserts obj, replacing any object with the same id.
func (s *Scene) AddObject(obj protocol.ObjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.ID] = obj
	return nil
}

func (s *Scene) RemoveObject(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return ErrUnknownObject
	}
	delete(s.objects, id)
	return nil
}

func (s *Scene) UpdateObject(obj protocol.ObjectState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[obj.ID]; !ok {
		return ErrUnknownObject
	}
	s.objects[obj.ID] = obj
	return nil
}

func (s *Scene) SetPlayerPose(playerID string, pos protocol.Vec3, rot protocol.Quat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poses[playerID] = Pose{Position: pos, Rotation: rot}
	return nil
}

func (s *Scene) RemovePlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.poses, playerID)
}

// Object returns the object with the given id.
func (s *Scene) Object(id string) (protocol.ObjectState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	return obj, ok
}

// Objects returns every object ordered by id.
func (s *Scene) Objects() []protocol.ObjectState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.ObjectState, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pose returns the last pose set for a player.
func (s *Scene) Pose(playerID string) (Pose, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.poses[playerID]
	return p, ok
}
