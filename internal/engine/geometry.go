package engine

// Table geometry. X is the lateral axis (paddles slide along it), Z is the
// depth axis (goal lines sit at its ends). Units match the client scene.
const (
	TableHalfWidth  = 15.0 // side walls at x = ±15
	GoalDepth       = 20.0 // goal lines at z = ±20
	PaddleDepth     = 18.0 // reflection band: 18 <= |z| <= 20
	PaddleHalfWidth = 2.5

	ServeSpeedZ    = 0.3
	ServeSpeedX    = 0.2
	DeflectDivisor = 5.0

	// ticks the ball stays frozen at center after a goal (1s at 60Hz)
	serveFreezeTicks = 60
)

// Slot layout. Duel: slot 1 defends z=+20, slot 2 defends z=-20.
//
// Four-player: each goal line is split at x=0 into two defended halves.
//
//	slot 1: z=+20, x<0    slot 2: z=+20, x>=0
//	slot 3: z=-20, x<0    slot 4: z=-20, x>=0
//
// A conceded half scores for the defender of the facing half on the
// opposite goal line (1<->3, 2<->4).
func quadOpponent(slot int) int {
	switch slot {
	case 1:
		return 3
	case 2:
		return 4
	case 3:
		return 1
	default:
		return 2
	}
}

// PlayerCount returns the number of slots a mode fields.
func PlayerCount(mode Mode) int {
	if mode == ModeFour {
		return 4
	}
	return 2
}

// paddleRange gives the legal [min, max] for a slot's lateral position.
func paddleRange(mode Mode, slot int) (float64, float64) {
	if mode != ModeFour {
		return -TableHalfWidth + PaddleHalfWidth, TableHalfWidth - PaddleHalfWidth
	}
	switch slot {
	case 1, 3: // x<0 half
		return -TableHalfWidth + PaddleHalfWidth, -PaddleHalfWidth
	default: // x>=0 half
		return PaddleHalfWidth, TableHalfWidth - PaddleHalfWidth
	}
}

// ClampPaddle forces a requested paddle position into the slot's legal range.
func ClampPaddle(mode Mode, slot int, pos float64) float64 {
	lo, hi := paddleRange(mode, slot)
	if pos < lo {
		return lo
	}
	if pos > hi {
		return hi
	}
	return pos
}

// defenderAt returns the slot guarding the goal line the ball is about to
// cross, given the ball's position.
func defenderAt(mode Mode, x, z float64) int {
	south := z > 0
	if mode != ModeFour {
		if south {
			return 1
		}
		return 2
	}
	if south {
		if x < 0 {
			return 1
		}
		return 2
	}
	if x < 0 {
		return 3
	}
	return 4
}
