package syncengine

import "github.com/agentworkforce/statesync/internal/localstore"

// Resolver picks the winner when a local and a remote envelope share an id.
// The winner is kept in full; there is no field-level merge.
type Resolver func(local, remote localstore.Envelope) localstore.Envelope

// LastWriteWins is the default policy: the remote copy wins only when its
// last-modified timestamp is strictly newer. Equal timestamps keep the
// local copy, which avoids needless overwrites of an idle client's data.
func LastWriteWins(local, remote localstore.Envelope) localstore.Envelope {
	if remote.UpdatedTime().After(local.UpdatedTime()) {
		return remote
	}
	return local
}

// ActiveRecordOverride layers a domain signal on top of another resolver:
// a side that has an in-progress record (payload field truthy) wins over a
// side that does not, regardless of timestamps. When both or neither side
// is active, resolution falls through to next.
func ActiveRecordOverride(field string, next Resolver) Resolver {
	if next == nil {
		next = LastWriteWins
	}
	return func(local, remote localstore.Envelope) localstore.Envelope {
		localActive := activeFlag(local, field)
		remoteActive := activeFlag(remote, field)
		if localActive && !remoteActive {
			return local
		}
		if remoteActive && !localActive {
			return remote
		}
		return next(local, remote)
	}
}

func activeFlag(env localstore.Envelope, field string) bool {
	value, ok := env.Payload[field]
	if !ok || value == nil {
		return false
	}
	switch typed := value.(type) {
	case bool:
		return typed
	case string:
		return typed != ""
	case float64:
		return typed != 0
	case int:
		return typed != 0
	}
	return true
}
