// Package imaging renders annotated copies of inspected images.
//
// An Annotator loads the source image with EXIF auto-orientation, draws one
// outlined box and one filled label tag per detection, and writes the result in
// the format implied by the output extension. WebP can be read but not written,
// so a .webp output is PNG-encoded.
//
// # Coordinate System
//
// Boxes use pixel coordinates with (0,0) at the top-left corner, X increasing
// rightward and Y increasing downward. (x1,y1) is inclusive, (x2,y2) is
// exclusive. Boxes given with swapped corners are canonicalized before drawing.
//
// # Label Tags
//
// The tag text is "label (confidence)" with two decimals, rendered in white on
// the box colour directly above the box. When the box touches the top edge the
// tag is clamped inside the image so it stays visible.
//
// # Fonts
//
// A TrueType or OpenType font is loaded from the configured path, which may be
// a bare file name searched in the usual system font directories. When no font
// can be loaded, basicfont.Face7x13 is used and the configured size is ignored.
//
// # Colours
//
// Each model gets its own colour, derived from the base colour by rotating its
// hue. The first model keeps the base colour unchanged.
//
// # Thread Safety
//
// An Annotator may be shared between goroutines. Font faces are not safe for
// concurrent use, so drawing is serialized internally.
package imaging
