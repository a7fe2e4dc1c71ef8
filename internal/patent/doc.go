// Package patent defines the records the acquisition pipeline produces:
// normalized identifiers, discovered records and their provenance.
package patent
