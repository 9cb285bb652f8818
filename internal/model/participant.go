package model

import (
	"encoding/json"
	"fmt"
)

// ParticipantKind discriminates the three participant variants.
type ParticipantKind string

const (
	KindUser     ParticipantKind = "user"
	KindCustomer ParticipantKind = "customer"
	KindSupplier ParticipantKind = "supplier"
)

// Participant is a tagged union over internal users, customers and
// suppliers. Role is only carried by the user kind.
type Participant struct {
	Kind  ParticipantKind
	ID    string
	Name  string
	Email string
	Role  string
}

func NewUser(id, name, email, role string) Participant {
	return Participant{Kind: KindUser, ID: id, Name: name, Email: email, Role: role}
}

func NewCustomer(id, name, email string) Participant {
	return Participant{Kind: KindCustomer, ID: id, Name: name, Email: email}
}

func NewSupplier(id, name, email string) Participant {
	return Participant{Kind: KindSupplier, ID: id, Name: name, Email: email}
}

type participantJSON struct {
	Kind  ParticipantKind `json:"kind"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Email string          `json:"email,omitempty"`
	Role  string          `json:"role,omitempty"`
}

func (p Participant) MarshalJSON() ([]byte, error) {
	out := participantJSON{Kind: p.Kind, ID: p.ID, Name: p.Name, Email: p.Email}
	if p.Kind == KindUser {
		out.Role = p.Role
	}
	return json.Marshal(out)
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var in participantJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case KindUser:
	case KindCustomer, KindSupplier:
		in.Role = ""
	default:
		return fmt.Errorf("participant %q: unknown kind %q", in.ID, in.Kind)
	}
	*p = Participant(in)
	return nil
}

// key identifies a participant across kinds; ids are only unique per kind.
func (p Participant) key() string {
	return string(p.Kind) + ":" + p.ID
}

// DedupeParticipants keeps the first occurrence of every (kind, id) pair and
// preserves order.
func DedupeParticipants(in []Participant) []Participant {
	seen := make(map[string]struct{}, len(in))
	out := make([]Participant, 0, len(in))
	for _, p := range in {
		k := p.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
