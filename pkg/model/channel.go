package model

// ChannelKind is the delivery transport an AlertChannel routes through.
type ChannelKind string

const (
	ChannelChat  ChannelKind = "chat"
	ChannelEmail ChannelKind = "email"
)

// ChannelConfig is the tagged-variant configuration per ChannelKind. Only one
// of the fields is populated, matching the kind.
type ChannelConfig struct {
	WebhookURL string `json:"webhookUrl,omitempty"` // chat
	EmailTo    string `json:"emailTo,omitempty"`     // email
}

// AlertChannel is a configured delivery destination for alerts.
type AlertChannel struct {
	ID            string        `json:"id,omitempty"`
	ProjectID     string        `json:"projectId,omitempty"`
	Kind          ChannelKind   `json:"kind"`
	Name          string        `json:"name"`
	ServiceFilter string        `json:"serviceFilter,omitempty"` // empty matches all services
	Active        bool          `json:"active"`
	Config        ChannelConfig `json:"config"`
}

// Matches reports whether the channel should receive alerts for service.
func (c AlertChannel) Matches(service string) bool {
	return c.Active && (c.ServiceFilter == "" || c.ServiceFilter == service)
}

// Project is the minimal project aggregate SPEC_FULL adds so
// AlertDispatcher's "project owner has an email on file" fallback and
// IngestionBridge's defaultService derivation have a concrete source.
// Referenced by id only, never embedded in Alert/AlertChannel, per the
// no-in-memory-object-graph guidance.
type Project struct {
	ID         string
	OwnerEmail string
}

// APIKey binds an ingest credential to a project and an optional default
// service name applied to records with an empty Service field.
type APIKey struct {
	Key            string
	ProjectID      string
	DefaultService string
}
