// Package synthesis implements the text-to-speech stage.
package synthesis
