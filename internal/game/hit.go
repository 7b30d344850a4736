package game

// Resolve reports whether a shot lands within radius of the target.
func Resolve(shot, target Vec, radius float64) bool {
	return shot.Dist(target) <= radius
}
