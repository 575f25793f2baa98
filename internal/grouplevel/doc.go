// Package grouplevel combines subject level maps in standard space into a
// group map.
package grouplevel
