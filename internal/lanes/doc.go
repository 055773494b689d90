// Package lanes bounds concurrent execution per named class of work.
//
// Each lane has a configurable concurrency limit and a FIFO queue of
// admitted-but-not-yet-running tasks. Within a lane, tasks start in
// submission order as slots free up; across lanes there is no ordering
// relationship. Limit changes at runtime affect future admissions only.
package lanes
