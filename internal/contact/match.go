// Package contact infers encounters between users from overlapping location samples.
package contact

import "math"

const (
	// Tolerance is the largest coordinate difference, in degrees, counted as the same place.
	Tolerance = 0.00001
	// MinMatches is the number of near-matches each axis needs before a pair counts as met.
	MinMatches = 3
	// DurationScale converts a match magnitude into a contact event duration.
	DurationScale = 10
)

// HaveMet compares the latitude and longitude samples of two users.
// It returns true and the smaller of the two axis match counts when both axes reach MinMatches.
// Any empty input means the users did not meet.
func HaveMet(latitudesA, latitudesB, longitudesA, longitudesB []float64) (bool, int) {
	if len(latitudesA) == 0 || len(latitudesB) == 0 || len(longitudesA) == 0 || len(longitudesB) == 0 {
		return false, 0
	}

	latMatches := CountNear(latitudesA, latitudesB, Tolerance)
	lonMatches := CountNear(longitudesA, longitudesB, Tolerance)

	if latMatches >= MinMatches && lonMatches >= MinMatches {
		return true, min(latMatches, lonMatches)
	}
	return false, 0
}

// CountNear counts every (a, b) combination whose absolute difference is within tol.
// A value in a that is near several values in b is counted once per neighbour.
func CountNear(a, b []float64, tol float64) int {
	n := 0
	for _, x := range a {
		for _, y := range b {
			if math.Abs(x-y) <= tol {
				n++
			}
		}
	}
	return n
}

// Duration converts a match magnitude into the value stored on a contact event.
func Duration(magnitude int) int {
	return magnitude * DurationScale
}
