package domain

import (
	"encoding/json"
	"slices"
)

// Core exchange types shared by the HTTP adapter, the client and storage. They are
// plain values: no validation happens here, see services/profiles for that.

// ADVKeyNetworkResponse is what the key issuance endpoint returns.
type ADVKeyNetworkResponse struct {
	Status string `json:"status"`
	Key    string `json:"key"`
}

func NewKeyNetworkResponse(status, key string) ADVKeyNetworkResponse {
	return ADVKeyNetworkResponse{Status: status, Key: key}
}

func (r ADVKeyNetworkResponse) Equal(o ADVKeyNetworkResponse) bool {
	return r == o
}

// ADVKeyFunctionResponse reports the outcome of a key operation. Callers check
// Success and read Message on failure.
type ADVKeyFunctionResponse struct {
	Key     string  `json:"key"`
	Success bool    `json:"success"`
	Message *string `json:"message,omitempty"`
}

func NewKeyFunctionResponse(key string, success bool, message *string) ADVKeyFunctionResponse {
	return ADVKeyFunctionResponse{Key: key, Success: success, Message: cloneOpt(message)}
}

func (r ADVKeyFunctionResponse) Equal(o ADVKeyFunctionResponse) bool {
	return r.Key == o.Key && r.Success == o.Success && equalOpt(r.Message, o.Message)
}

func (r ADVKeyFunctionResponse) WithMessage(msg *string) ADVKeyFunctionResponse {
	r.Message = cloneOpt(msg)
	return r
}

// Signal is one scored classification attached to a Profile. Score carries no
// range; it is whatever the producing model emits.
type Signal struct {
	Model      string  `json:"model"`
	Version    string  `json:"version"`
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Attributes *string `json:"attributes,omitempty"`
}

func NewSignal(model, version string, score float64, label string, attributes *string) Signal {
	return Signal{Model: model, Version: version, Score: score, Label: label, Attributes: cloneOpt(attributes)}
}

func (s Signal) Equal(o Signal) bool {
	return s.Model == o.Model &&
		s.Version == o.Version &&
		s.Score == o.Score &&
		s.Label == o.Label &&
		equalOpt(s.Attributes, o.Attributes)
}

func (s Signal) WithScore(score float64, label string) Signal {
	s.Score = score
	s.Label = label
	s.Attributes = cloneOpt(s.Attributes)
	return s
}

// Profile bundles a client/session identity with its signals. Signal order is
// significant and kept as given.
type Profile struct {
	ID                    string   `json:"id"`
	SiteID                string   `json:"siteId"`
	Funnel                string   `json:"funnel"`
	ClientID              string   `json:"clientId"`
	InteractionAttributes string   `json:"interactionAttributes,omitempty"`
	Signals               []Signal `json:"signals"`
}

// NewProfile builds a Profile with empty interaction attributes. The signals are
// copied.
func NewProfile(id, siteID, funnel, clientID string, signals ...Signal) Profile {
	return Profile{
		ID:       id,
		SiteID:   siteID,
		Funnel:   funnel,
		ClientID: clientID,
		Signals:  cloneSignals(signals),
	}
}

func (p Profile) WithInteractionAttributes(attrs string) Profile {
	p.Signals = cloneSignals(p.Signals)
	p.InteractionAttributes = attrs
	return p
}

func (p Profile) WithSignals(signals ...Signal) Profile {
	p.Signals = cloneSignals(signals)
	return p
}

// AppendSignal returns a copy with s added at the end.
func (p Profile) AppendSignal(s Signal) Profile {
	s.Attributes = cloneOpt(s.Attributes)
	p.Signals = append(cloneSignals(p.Signals), s)
	return p
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	p.Signals = cloneSignals(p.Signals)
	return p
}

// Equal compares every field. A nil and an empty signal list are equal.
func (p Profile) Equal(o Profile) bool {
	if p.ID != o.ID || p.SiteID != o.SiteID || p.Funnel != o.Funnel ||
		p.ClientID != o.ClientID || p.InteractionAttributes != o.InteractionAttributes {
		return false
	}
	return slices.EqualFunc(p.Signals, o.Signals, Signal.Equal)
}

func (p Profile) MarshalJSON() ([]byte, error) {
	type wire Profile
	w := wire(p)
	if w.Signals == nil {
		w.Signals = []Signal{}
	}
	return json.Marshal(w)
}

// ProfileResponse is the envelope returned by profile endpoints. Profile is
// expected to be absent when Status reports a failure.
type ProfileResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	MoreInfo *string  `json:"moreInfo,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
}

func NewProfileResponse(status, message string, moreInfo *string, profile *Profile) ProfileResponse {
	r := ProfileResponse{Status: status, Message: message, MoreInfo: cloneOpt(moreInfo)}
	if profile != nil {
		cp := profile.Clone()
		r.Profile = &cp
	}
	return r
}

func (r ProfileResponse) Equal(o ProfileResponse) bool {
	if r.Status != o.Status || r.Message != o.Message || !equalOpt(r.MoreInfo, o.MoreInfo) {
		return false
	}
	if r.Profile == nil || o.Profile == nil {
		return r.Profile == nil && o.Profile == nil
	}
	return r.Profile.Equal(*o.Profile)
}

// Optional returns a pointer to s for the optional string fields.
func Optional(s string) *string { return &s }

func equalOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneOpt(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneSignals(in []Signal) []Signal {
	if in == nil {
		return nil
	}
	out := make([]Signal, len(in))
	for i, s := range in {
		out[i] = s
		out[i].Attributes = cloneOpt(s.Attributes)
	}
	return out
}
