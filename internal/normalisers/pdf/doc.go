// Package pdf provides Normaliser implementations for PDF documents.
//
// NativeNormaliser reads the text layer in-process. Normaliser shells out
// to poppler's pdftotext and serves as the fallback when the native reader
// fails or finds too little text.
package pdf
