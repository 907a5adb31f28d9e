// Package decision owns the per-cycle lane decision: it classifies nearby
// agents into lane bands, detects an unsafe following gap, evaluates the
// adjacent lanes and picks the maneuver for the cycle.
//
// The engine is fail-safe. When no adjacent lane is clearly feasible, or the
// agent data is ambiguous, the vehicle keeps its lane and slows down.
//
// Maneuver transition table (evaluated fresh every cycle):
//
//	too close | emergency | lane switched   | maneuver
//	----------+-----------+-----------------+---------------
//	no        | -         | -               | KeepLane
//	yes       | yes       | -               | EmergencyBrake
//	yes       | no        | no              | Following
//	yes       | no        | to lower index  | ChangingLeft
//	yes       | no        | to higher index | ChangingRight
//
// No SQL, transport or logging code is allowed in this package.
package decision
