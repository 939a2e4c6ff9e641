// Package textutil folds user-supplied layer names into identifiers that
// conversion tools and tile consumers accept.
package textutil
