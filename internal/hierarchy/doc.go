// Package hierarchy validates assembled parts without modifying them.
//
// Validate indexes parents to children, derives the roots and reports
// structural problems (dangling parents, missing roots, cycles, duplicate
// ids) as errors and geometric oddities (boxes outside the image, pivots
// outside their box or far from a rotating part's centre) as warnings.
// Nothing is thrown: callers decide whether errors block progression.
package hierarchy
