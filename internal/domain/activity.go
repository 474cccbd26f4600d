package domain

// Activity is the inbound bot-connector event delivered by the Teams channel.
// Every nested field may be absent; accessors below are null-safe.
type Activity struct {
	Type         string           `json:"type"`
	ID           string           `json:"id,omitempty"`
	Text         string           `json:"text,omitempty"`
	ChannelID    string           `json:"channelId,omitempty"`
	ServiceURL   string           `json:"serviceUrl,omitempty"`
	From         *ChannelAccount  `json:"from,omitempty"`
	Recipient    *ChannelAccount  `json:"recipient,omitempty"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	ChannelData  *ChannelData     `json:"channelData,omitempty"`
	MembersAdded []ChannelAccount `json:"membersAdded,omitempty"`
	ReplyToID    string           `json:"replyToId,omitempty"`
}

const (
	ActivityTypeMessage            = "message"
	ActivityTypeConversationUpdate = "conversationUpdate"
)

// ChannelAccount identifies a participant on the channel.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationRef identifies the conversation an activity belongs to.
type ConversationRef struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`
}

// ChannelData carries Teams-specific payload fields.
type ChannelData struct {
	Tenant *Tenant `json:"tenant,omitempty"`
}

// Tenant is the directory the sender belongs to.
type Tenant struct {
	ID string `json:"id"`
}

// TenantID returns the tenant claim from the activity, preferring the
// conversation reference and falling back to channel data. Empty means no
// claim was present.
func (a *Activity) TenantID() string {
	if a == nil {
		return ""
	}
	if a.Conversation != nil && a.Conversation.TenantID != "" {
		return a.Conversation.TenantID
	}
	if a.ChannelData != nil && a.ChannelData.Tenant != nil {
		return a.ChannelData.Tenant.ID
	}
	return ""
}

// SenderID returns a stable sender identifier, preferring the account id over
// the display name.
func (a *Activity) SenderID() string {
	if a == nil || a.From == nil {
		return ""
	}
	if a.From.ID != "" {
		return a.From.ID
	}
	return a.From.Name
}

// SenderName returns the sender display name, falling back to the id.
func (a *Activity) SenderName() string {
	if a == nil || a.From == nil {
		return ""
	}
	if a.From.Name != "" {
		return a.From.Name
	}
	return a.From.ID
}

// Reply builds a message activity addressed back to the sender of a.
func (a *Activity) Reply(text string) Activity {
	out := Activity{
		Type:      ActivityTypeMessage,
		Text:      text,
		ChannelID: a.ChannelID,
		ReplyToID: a.ID,
	}
	if a.Recipient != nil {
		out.From = &ChannelAccount{ID: a.Recipient.ID, Name: a.Recipient.Name}
	}
	if a.From != nil {
		out.Recipient = &ChannelAccount{ID: a.From.ID, Name: a.From.Name}
	}
	if a.Conversation != nil {
		out.Conversation = &ConversationRef{ID: a.Conversation.ID, TenantID: a.Conversation.TenantID}
	}
	return out
}
