// Package credentials manages a pool of interchangeable API keys with
// usage- and age-based rotation, plus forced rotation on quota or auth
// failures reported by callers.
package credentials

import (
	"errors"
	"sync"
	"time"

	"github.com/echoscribe/echoscribe/internal/logger"
)

// ErrNoCredentials is returned when the pool is empty. This is a
// configuration fault; callers must surface it as fatal, not retry.
var ErrNoCredentials = errors.New("no credentials configured")

// Credential is one entry in the rotation pool.
type Credential struct {
	secret     string
	usageCount int
	lastUsedAt time.Time
}

// Secret returns the raw token for use in an Authorization header.
func (c *Credential) Secret() string {
	return c.secret
}

// String returns a masked form safe for logs.
func (c *Credential) String() string {
	return Mask(c.secret)
}

// Mask hides all but a short prefix of a secret.
func Mask(secret string) string {
	const visible = 8
	if len(secret) <= visible {
		return "***"
	}
	return secret[:visible] + "..."
}

// Config bounds how long a single credential stays current.
type Config struct {
	// MaxUsage forces rotation after this many successful uses.
	MaxUsage int `yaml:"max_usage" env:"CREDENTIAL_MAX_USAGE"`
	// RotationInterval forces rotation once the credential has been in
	// service longer than this, even absent errors.
	RotationInterval time.Duration `yaml:"rotation_interval" env:"CREDENTIAL_ROTATION_INTERVAL"`
}

func (c *Config) setDefaults() {
	if c.MaxUsage <= 0 {
		c.MaxUsage = 1000
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = 24 * time.Hour
	}
}

// Rotator selects the current credential from the pool. Exactly one
// credential is current at any time; the cursor advances round-robin.
type Rotator struct {
	cfg Config
	log logger.Logger

	mu     sync.Mutex
	pool   []*Credential
	cursor int

	now func() time.Time
}

// NewRotator creates a rotator over the given secrets, in order.
func NewRotator(secrets []string, cfg Config, log logger.Logger) *Rotator {
	cfg.setDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	pool := make([]*Credential, 0, len(secrets))
	for _, s := range secrets {
		if s == "" {
			continue
		}
		pool = append(pool, &Credential{secret: s})
	}

	return &Rotator{
		cfg:  cfg,
		log:  log,
		pool: pool,
		now:  time.Now,
	}
}

// Current returns the credential callers should use right now. Rotation is
// lazy: a credential past its usage ceiling or rotation interval is skipped
// in favor of the next fresh one. When every credential is spent the cursor
// still advances one position so load keeps spreading round-robin.
func (r *Rotator) Current() (*Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return nil, ErrNoCredentials
	}

	if r.spent(r.pool[r.cursor]) {
		r.advance("usage or age ceiling reached")
		for i := 0; i < len(r.pool)-1 && r.spent(r.pool[r.cursor]); i++ {
			r.advance("usage or age ceiling reached")
		}
	}

	return r.pool[r.cursor], nil
}

// MarkUsed records a successful use of the credential.
func (r *Rotator) MarkUsed(c *Credential) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c.usageCount++
	c.lastUsedAt = r.now()
}

// RotateOnFailure advances the cursor unconditionally. Callers invoke this
// when the current credential hit a quota or auth rejection.
func (r *Rotator) RotateOnFailure(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pool) == 0 {
		return
	}
	r.advance(reason)
}

// Size returns the number of credentials in the pool.
func (r *Rotator) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

// KeyStatus is a masked snapshot of one pool entry for health reporting.
type KeyStatus struct {
	Masked     string    `json:"masked"`
	UsageCount int       `json:"usage_count"`
	LastUsedAt time.Time `json:"last_used_at"`
	Current    bool      `json:"current"`
}

// Health returns masked usage information for every credential.
func (r *Rotator) Health() []KeyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]KeyStatus, len(r.pool))
	for i, c := range r.pool {
		out[i] = KeyStatus{
			Masked:     c.String(),
			UsageCount: c.usageCount,
			LastUsedAt: c.lastUsedAt,
			Current:    i == r.cursor,
		}
	}
	return out
}

// spent reports whether the credential has hit a rotation ceiling.
// Callers must hold r.mu.
func (r *Rotator) spent(c *Credential) bool {
	if c.usageCount >= r.cfg.MaxUsage {
		return true
	}
	return !c.lastUsedAt.IsZero() && r.now().Sub(c.lastUsedAt) > r.cfg.RotationInterval
}

// advance moves the cursor one position, wrapping. Callers must hold r.mu.
func (r *Rotator) advance(reason string) {
	r.cursor = (r.cursor + 1) % len(r.pool)
	r.log.Info("rotated credential",
		logger.Int("cursor", r.cursor),
		logger.String("credential", r.pool[r.cursor].String()),
		logger.String("reason", reason),
	)
}
