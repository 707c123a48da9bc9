package conversation

import (
	"sync"
	"time"
)

// Speakers recorded in the history
const (
	SpeakerUser  = "user"
	SpeakerAgent = "agent"
)

// EmotionState is one entry of the emotion timeline
type EmotionState struct {
	Emotion    string    `json:"emotion"`
	Confidence float64   `json:"confidence"`
	Valence    float64   `json:"valence"`
	Arousal    float64   `json:"arousal"`
	Timestamp  time.Time `json:"timestamp"`
}

// Turn is one utterance in the conversation history
type Turn struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Template category used for agent turns
	Strategy string `json:"strategy,omitempty"`
}

// Context accumulates what is known about one conversation. Writers are
// serialized by the pipeline; the lock only protects concurrent readers.
type Context struct {
	mutex sync.RWMutex

	sessionID string
	tenantID  string
	agentID   string
	createdAt time.Time

	leadProfile         map[string]string
	propertyPreferences map[string]string
	history             []Turn
	emotionTimeline     []EmotionState
	currentIntent       string
	confidenceScore     float64
	objections          []string
	painPoints          []string
	hotButtons          []string

	// 0 keeps every objection
	maxObjections int
}

// Snapshot is a detached copy of a Context, safe to serialize
type Snapshot struct {
	SessionID           string            `json:"session_id"`
	TenantID            string            `json:"tenant_id,omitempty"`
	AgentID             string            `json:"agent_id,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	LeadProfile         map[string]string `json:"lead_profile"`
	PropertyPreferences map[string]string `json:"property_preferences"`
	History             []Turn            `json:"conversation_history"`
	EmotionTimeline     []EmotionState    `json:"emotion_timeline"`
	CurrentIntent       string            `json:"current_intent"`
	ConfidenceScore     float64           `json:"confidence_score"`
	Objections          []string          `json:"objections"`
	PainPoints          []string          `json:"pain_points"`
	HotButtons          []string          `json:"hot_buttons"`
}

// Option configures a Context
type Option func(*Context)

// WithIdentity records the tenant and agent handling the session
func WithIdentity(tenantID, agentID string) Option {
	return func(c *Context) {
		c.tenantID = tenantID
		c.agentID = agentID
	}
}

// WithMaxObjections bounds the objection list, dropping the oldest entries
func WithMaxObjections(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.maxObjections = n
		}
	}
}

// New creates an empty context for sessionID
func New(sessionID string, opts ...Option) *Context {
	c := &Context{
		sessionID:           sessionID,
		createdAt:           time.Now(),
		leadProfile:         make(map[string]string),
		propertyPreferences: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the owning session
func (c *Context) SessionID() string {
	return c.sessionID
}

// AgentID returns the agent handling the session
func (c *Context) AgentID() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.agentID
}

// AppendEmotion adds an entry to the emotion timeline
func (c *Context) AppendEmotion(state EmotionState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.emotionTimeline = append(c.emotionTimeline, state)
}

// SetIntent records the latest intent; the previous one is replaced
func (c *Context) SetIntent(intent string, confidence float64) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.currentIntent = intent
	c.confidenceScore = clamp01(confidence)
}

// AddObjections appends objections in order. Duplicates are kept.
func (c *Context) AddObjections(objections ...string) {
	if len(objections) == 0 {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.objections = append(c.objections, objections...)
	if c.maxObjections > 0 && len(c.objections) > c.maxObjections {
		c.objections = append([]string(nil), c.objections[len(c.objections)-c.maxObjections:]...)
	}
}

// AddTurn appends to the conversation history
func (c *Context) AddTurn(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.history = append(c.history, turn)
}

// MergePreferences copies non-empty values into the property preferences
func (c *Context) MergePreferences(values map[string]string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	mergeInto(c.propertyPreferences, values)
}

// MergeLeadProfile copies non-empty values into the lead profile
func (c *Context) MergeLeadProfile(values map[string]string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	mergeInto(c.leadProfile, values)
}

// AddPainPoint records a pain point once
func (c *Context) AddPainPoint(point string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.painPoints = appendUnique(c.painPoints, point)
}

// AddHotButton records a hot button once
func (c *Context) AddHotButton(button string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.hotButtons = appendUnique(c.hotButtons, button)
}

// CurrentIntent returns the latest intent and its confidence
func (c *Context) CurrentIntent() (string, float64) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.currentIntent, c.confidenceScore
}

// Objections returns a copy of the objection list
func (c *Context) Objections() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]string(nil), c.objections...)
}

// History returns a copy of the conversation history
func (c *Context) History() []Turn {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]Turn(nil), c.history...)
}

// EmotionTimeline returns a copy of the emotion timeline
func (c *Context) EmotionTimeline() []EmotionState {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]EmotionState(nil), c.emotionTimeline...)
}

// Preference returns one property preference
func (c *Context) Preference(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	v, ok := c.propertyPreferences[key]
	return v, ok
}

// LeadValue returns one lead profile attribute
func (c *Context) LeadValue(key string) (string, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	v, ok := c.leadProfile[key]
	return v, ok
}

// TurnCount returns the number of user turns
func (c *Context) TurnCount() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	n := 0
	for _, t := range c.history {
		if t.Speaker == SpeakerUser {
			n++
		}
	}
	return n
}

// Snapshot returns a deep copy of the context
func (c *Context) Snapshot() Snapshot {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return Snapshot{
		SessionID:           c.sessionID,
		TenantID:            c.tenantID,
		AgentID:             c.agentID,
		CreatedAt:           c.createdAt,
		LeadProfile:         copyMap(c.leadProfile),
		PropertyPreferences: copyMap(c.propertyPreferences),
		History:             append([]Turn{}, c.history...),
		EmotionTimeline:     append([]EmotionState{}, c.emotionTimeline...),
		CurrentIntent:       c.currentIntent,
		ConfidenceScore:     c.confidenceScore,
		Objections:          append([]string{}, c.objections...),
		PainPoints:          append([]string{}, c.painPoints...),
		HotButtons:          append([]string{}, c.hotButtons...),
	}
}

func mergeInto(dst, src map[string]string) {
	for k, v := range src {
		if v != "" {
			dst[k] = v
		}
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
