package player

// PlaybackState is the externally visible state of the player.
//
// Transitions:
//
//	Stopped    --Play()-->            Connecting
//	Connecting --first frame-->       Playing
//	Playing    --Pause()-->           Paused
//	Paused     --Resume()-->          Playing
//	any        --Stop()/new Play()--> Stopped
//	Connecting/Playing --failure, retries exhausted--> Error
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StateConnecting
	StatePlaying
	StatePaused
	StateError
)

func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateConnecting:
		return "CONNECTING"
	case StatePlaying:
		return "LIVE"
	case StatePaused:
		return "PAUSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
