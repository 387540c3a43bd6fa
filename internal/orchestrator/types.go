package orchestrator

import "time"

// Options carries the environment/config knobs recognized by the
// orchestrator (§6). DefaultOptions returns the documented defaults; zero
// values in an Options built by hand are used as they are.
type Options struct {
	// RepositoryBasePath roots every repository at
	// {RepositoryBasePath}/{device_id}/{share_id}. No hard-coded fallback —
	// the injected value is always authoritative.
	RepositoryBasePath string
	// RestoreRoot bounds every restore target; requests outside it are
	// rejected (§6 restore target policy).
	RestoreRoot string
	// WakeWait is how long the orchestrator sleeps, cancellably, after
	// sending a wake-on-LAN packet (§6 wake_wait_seconds, default 30s).
	WakeWait time.Duration
	// ConnectionTestBackoff bounds the total retry time of the Mount call
	// (MountWithBackoff) on every share run, whether or not a wake was sent
	// (§4.5). The orchestrator does not call TestConnection.
	//
	// The PBKDF2 iteration count (§6 pbkdf2_iterations) is deliberately not
	// duplicated here: derivePassword calls o.creds.DeriveKey, and the
	// credential.Store it belongs to is already constructed with that count
	// (credential.New(masterKey, iterations)). A second copy on Options would
	// always carry the same value and nothing would ever read it.
	ConnectionTestBackoff time.Duration
}

// DefaultOptions returns the documented defaults (§6).
func DefaultOptions() Options {
	return Options{
		RepositoryBasePath:    "./repositories",
		RestoreRoot:           "./restores",
		WakeWait:              30 * time.Second,
		ConnectionTestBackoff: 2 * time.Minute,
	}
}
