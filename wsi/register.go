package wsi

// Importing wsi registers every vendor this module ships, the same way
// importing image/jpeg or image/png into a program makes image.Decode
// recognise that format without the caller naming the package itself.
// A caller that needs a narrower binary can import formats/<vendor>
// packages directly and build against internal/core instead.
import (
	_ "github.com/cocosip/go-wsi/formats/aperio"
	_ "github.com/cocosip/go-wsi/formats/dicom"
	_ "github.com/cocosip/go-wsi/formats/generictiff"
	_ "github.com/cocosip/go-wsi/formats/indexed"
	_ "github.com/cocosip/go-wsi/formats/leica"
)
