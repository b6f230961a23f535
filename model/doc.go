// Package model defines the shared value types of the image search core.
package model
