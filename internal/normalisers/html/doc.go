// Package html provides Normaliser implementations for HTML documents.
//
// DOMNormaliser parses the document tree, prefers the main content element
// and reads title, language and publication date from the head. Normaliser
// is a regex tag stripper used when the DOM strategy yields too little text.
package html
