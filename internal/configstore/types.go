// Package configstore is the typed key/value configuration collaborator
// described in spec §6: devices and shares are declarative YAML documents
// committed atomically, under paths of the form "devices/{name}.yaml" and
// "shares/{device_name}/{share_name}.yaml". It is the system of record for
// the Data Model's Device, Share, Schedule, RetentionPolicy, and
// IncludeExcludeRules (§3) — the Job Sink (internal/jobsink) is a separate
// store for job rows, which are transient runtime records rather than
// declarative configuration.
package configstore

import "time"

// Schedule is a cron expression with seconds, plus an optional local-clock
// time window during which fires are honored. A zero Window means "no
// restriction" (fire at every cron instant).
type Schedule struct {
	Cron   string `yaml:"cron"`
	Window Window `yaml:"window,omitempty"`
	// LastFireAt records when the scheduler last fired this schedule (or,
	// for a newly installed trigger, when it was installed), persisted so a
	// restart after downtime can tell a single
	// missed cron instant apart from none (§8 misfire coalescing) without
	// running multiple catch-up jobs.
	LastFireAt time.Time `yaml:"last_fire_at,omitempty"`
}

// Window is a [Start, End] local-clock range, e.g. "22:00" to "06:00" for an
// overnight backup window. Empty Start/End means unrestricted.
type Window struct {
	Start string `yaml:"start,omitempty"`
	End   string `yaml:"end,omitempty"`
}

// Enabled reports whether s names a cron expression at all. The zero
// Schedule (empty Cron) means "no schedule configured".
func (s Schedule) Enabled() bool { return s.Cron != "" }

// RetentionPolicy mirrors §3: counts are applied by the engine, the core only
// persists the tuple.
type RetentionPolicy struct {
	KeepLatest  int `yaml:"keep_latest,omitempty"`
	KeepDaily   int `yaml:"keep_daily,omitempty"`
	KeepWeekly  int `yaml:"keep_weekly,omitempty"`
	KeepMonthly int `yaml:"keep_monthly,omitempty"`
	KeepYearly  int `yaml:"keep_yearly,omitempty"`
}

// IncludeExcludeRules are ordered lists evaluated by the engine at backup
// time; the core only resolves which set of rules applies (§3: share rules
// take precedence over device rules).
type IncludeExcludeRules struct {
	ExcludePatterns  []string `yaml:"exclude_patterns,omitempty"`
	ExcludeRegex     []string `yaml:"exclude_regex,omitempty"`
	IncludeOnlyRegex []string `yaml:"include_only_regex,omitempty"`
	ExcludeIfPresent []string `yaml:"exclude_if_present,omitempty"`
}

// IsEmpty reports whether no rule of any kind is set.
func (r IncludeExcludeRules) IsEmpty() bool {
	return len(r.ExcludePatterns) == 0 && len(r.ExcludeRegex) == 0 &&
		len(r.IncludeOnlyRegex) == 0 && len(r.ExcludeIfPresent) == 0
}

// Protocol identifies the transport a Device is reached over.
type Protocol string

const (
	ProtocolSMB   Protocol = "smb"
	ProtocolSSH   Protocol = "ssh"
	ProtocolRsync Protocol = "rsync"
)

// Device is the persisted representation of a networked device (§3).
// ID is stable across renames; Name is the unique, human-chosen identifier.
type Device struct {
	ID                  string              `yaml:"id"`
	Name                string              `yaml:"name"`
	Protocol            Protocol            `yaml:"protocol"`
	Host                string              `yaml:"host"`
	Port                int                 `yaml:"port,omitempty"`
	Username            string              `yaml:"username,omitempty"`
	EncryptedPassword   string              `yaml:"encrypted_password,omitempty"`
	WakeOnLANEnabled    bool                `yaml:"wake_on_lan_enabled,omitempty"`
	WakeOnLANMAC        string              `yaml:"wake_on_lan_mac,omitempty"`
	Schedule            Schedule            `yaml:"schedule,omitempty"`
	Retention           RetentionPolicy     `yaml:"retention,omitempty"`
	Rules               IncludeExcludeRules `yaml:"rules,omitempty"`
	CreatedAt           time.Time           `yaml:"created_at"`
	UpdatedAt           time.Time           `yaml:"updated_at"`
}

// Share is the persisted representation of a remote directory on a Device
// (§3). (DeviceID, Name) is unique; RepoKeySaltB64 is the 32-byte base64 salt
// used to derive a repository key when EncryptedRepositoryPassword is not
// set directly (§4.1 password derivation).
type Share struct {
	ID        string              `yaml:"id"`
	DeviceID  string              `yaml:"device_id"`
	Name      string              `yaml:"name"`
	Path      string              `yaml:"path"`
	Enabled   bool                `yaml:"enabled"`
	Schedule  Schedule            `yaml:"schedule,omitempty"`
	Retention RetentionPolicy     `yaml:"retention,omitempty"`
	Rules     IncludeExcludeRules `yaml:"rules,omitempty"`

	// EncryptedRepositoryPassword is the repository password set directly by
	// an operator, encrypted at rest via credential.Store.Encrypt. Empty
	// means "derive one instead" (§4.1 password derivation).
	EncryptedRepositoryPassword string `yaml:"encrypted_repository_password,omitempty"`
	// RepoKeySaltB64 is the base64 32-byte salt used to derive a repository
	// key from the device password when EncryptedRepositoryPassword is unset.
	RepoKeySaltB64 string `yaml:"repo_key_salt,omitempty"`
	// DerivedKeyEnc caches the derived key, encrypted at rest, so it is only
	// computed once per (device password, salt) pair.
	DerivedKeyEnc string    `yaml:"derived_key_encrypted,omitempty"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

// EffectiveRules resolves the rules that apply to a run against this share:
// share rules if any are set, else the device's rules, else empty (§3).
func EffectiveRules(share Share, device Device) IncludeExcludeRules {
	if !share.Rules.IsEmpty() {
		return share.Rules
	}
	return device.Rules
}

// EffectiveSchedule resolves which schedule governs a share: its own if set,
// else its device's (§4.2 — share-schedule wins over device-schedule).
func EffectiveSchedule(share Share, device Device) (Schedule, bool) {
	if share.Schedule.Enabled() {
		return share.Schedule, true
	}
	if device.Schedule.Enabled() {
		return device.Schedule, false
	}
	return Schedule{}, false
}
