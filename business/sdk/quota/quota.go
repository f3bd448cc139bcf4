// Package quota holds the admission arithmetic for aggregate usage quotas.
package quota

// Fits reports whether a request of requestedMB can be admitted on top of
// currentMB without exceeding quotaMB. Reaching the quota exactly is allowed.
func Fits(requestedMB, currentMB, quotaMB int64) bool {
	return requestedMB+currentMB <= quotaMB
}
