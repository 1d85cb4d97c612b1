// Package overlay renders extraction candidates over the source image so the
// critique call can see exactly what was proposed.
//
// Shapes are traced into paths, rasterized with golang.org/x/image/vector as a
// translucent fill plus a solid stroke, and encoded as PNG.
package overlay
