// Package content implements the content pipeline: HTML/JSON
// compression, virtual-DOM diffing, and ECDSA-signed request
// envelopes.
package content

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// dictionaryID selects which preset dictionary (if any) a compressed
// blob was built with, so a receiver can decompress without any side
// channel.
type dictionaryID byte

const (
	dictNone dictionaryID = 0
	dictHTML dictionaryID = 1
)

// htmlDictionary is a static table of common HTML tags and attributes.
// flate's preset-dictionary support (RFC 1951 §3.2.6) is the stdlib
// mechanism used here for tag/attribute-aware compression; no
// available dependency offers an HTML-aware compressor, so this goes
// directly against the standard library (see DESIGN.md).
var htmlDictionary = []byte(
	`<html><head><title></title></head><body><div class="` +
		`"><span id="><a href="><img src="><p><ul><li><table><tr><td>` +
		`<form method="post" action="><input type="text" name="` +
		`<script src="><link rel="stylesheet" href="</div></span></a>` +
		`</p></li></ul></table></tr></td></form></body></html>`)

// CompressHTML compresses an HTML payload using the preset HTML
// dictionary.
func CompressHTML(data []byte) ([]byte, error) {
	return compressWithDict(data, dictHTML, htmlDictionary)
}

// CompressGeneric compresses an arbitrary (JSON/text) payload without
// an HTML-specific dictionary.
func CompressGeneric(data []byte) ([]byte, error) {
	return compressWithDict(data, dictNone, nil)
}

func compressWithDict(data []byte, id dictionaryID, dict []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(id))

	w, err := flate.NewWriterDict(&buf, flate.BestCompression, dict)
	if err != nil {
		return nil, fmt.Errorf("content: building compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("content: compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("content: closing compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses CompressHTML or CompressGeneric, inspecting the
// leading dictionary-id byte to pick the right preset dictionary —
// entirely self-describing, no side channel required.
func Decompress(blob []byte) ([]byte, error) {
	if len(blob) < 1 {
		return nil, fmt.Errorf("content: empty compressed blob")
	}
	id := dictionaryID(blob[0])
	var dict []byte
	switch id {
	case dictHTML:
		dict = htmlDictionary
	case dictNone:
		dict = nil
	default:
		return nil, fmt.Errorf("content: unknown dictionary id %d", id)
	}

	r := flate.NewReaderDict(bytes.NewReader(blob[1:]), dict)
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("content: decompressing: %w", err)
	}
	return out, nil
}
