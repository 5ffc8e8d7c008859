package locking

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ResourceType is a category of lockable resource. Its numeric id takes part
// in the total order of lock units, so ids must stay stable.
type ResourceType struct {
	id   uint32
	name string
}

var (
	ResourceNode         = ResourceType{id: 0, name: "NODE"}
	ResourceRelationship = ResourceType{id: 1, name: "RELATIONSHIP"}
	ResourceLabel        = ResourceType{id: 2, name: "LABEL"}
	ResourceSchema       = ResourceType{id: 3, name: "SCHEMA"}
)

var resourceTypes = []ResourceType{
	ResourceNode,
	ResourceRelationship,
	ResourceLabel,
	ResourceSchema,
}

func (r ResourceType) TypeID() uint32 {
	return r.id
}

func (r ResourceType) String() string {
	return r.name
}

// ResourceTypes lists every known resource type ordered by type id.
func ResourceTypes() []ResourceType {
	out := make([]ResourceType, len(resourceTypes))
	copy(out, resourceTypes)
	return out
}

func ResourceTypeFromID(id uint32) (ResourceType, bool) {
	if int(id) >= len(resourceTypes) {
		return ResourceType{}, false
	}
	return resourceTypes[id], true
}

// ParseResourceType resolves a resource type by its case-insensitive name.
func ParseResourceType(name string) (ResourceType, error) {
	for _, rt := range resourceTypes {
		if strings.EqualFold(rt.name, name) {
			return rt, nil
		}
	}
	return ResourceType{}, errors.Errorf("unknown resource type %q", name)
}

type ResourceID int64

type TaggedType[T any] struct{ v T } // this trick forbids casting one lock mode to another

type LockMode TaggedType[uint8]

var (
	LockShared    LockMode = LockMode{0}
	LockExclusive LockMode = LockMode{1}
)

func LockModeOf(exclusive bool) LockMode {
	if exclusive {
		return LockExclusive
	}
	return LockShared
}

func (m LockMode) IsExclusive() bool {
	return m == LockExclusive
}

func (m LockMode) String() string {
	if m == LockExclusive {
		return "EXCLUSIVE"
	}
	return "SHARED"
}

// LockUnit identifies one lockable grant. Units are totally ordered: every
// exclusive unit sorts before every shared one, then by resource type id,
// then by resource id.
type LockUnit struct {
	ResourceType ResourceType
	ResourceID   ResourceID
	Exclusive    bool
}

func NewLockUnit(rt ResourceType, id ResourceID, exclusive bool) LockUnit {
	return LockUnit{
		ResourceType: rt,
		ResourceID:   id,
		Exclusive:    exclusive,
	}
}

func (u LockUnit) Mode() LockMode {
	return LockModeOf(u.Exclusive)
}

func (u LockUnit) Compare(other LockUnit) int {
	if u.Exclusive != other.Exclusive {
		if u.Exclusive {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(u.ResourceType.id, other.ResourceType.id); c != 0 {
		return c
	}
	return cmp.Compare(u.ResourceID, other.ResourceID)
}

func (u LockUnit) Less(other LockUnit) bool {
	return u.Compare(other) < 0
}

func (u LockUnit) String() string {
	return fmt.Sprintf("%s %s(%d)", u.Mode(), u.ResourceType, u.ResourceID)
}

// ResourceString renders a resource the way lock diagnostics print it.
func ResourceString(rt ResourceType, id ResourceID) string {
	return fmt.Sprintf("%s(%d)", rt, id)
}
