// Package normalisers turns fetched documents into canonical UTF-8 text.
//
// Each subpackage provides one or more extraction strategies implementing
// driven.Normaliser. The Registry in this package keys strategies by MIME
// type and runs them as a fallback chain: the highest-priority strategy is
// tried first and the first one producing enough text wins.
//
// Strategies are registered with the Registry at startup.
package normalisers
