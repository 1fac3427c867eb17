package tui

import "time"

const (
	// Timeouts and Intervals
	TickInterval   = 500 * time.Millisecond
	NoticeDuration = 4 * time.Second
	ActionTimeout  = 30 * time.Second

	// Input Dimensions
	InputWidth = 50

	// Layout
	ListWidthRatio  = 0.6 // list takes 60% width
	DefaultPaddingX = 1
	DefaultPaddingY = 0
	HeaderHeight    = 7

	// Speed graph samples kept
	SpeedHistoryLen = 120

	// Units
	Megabyte = 1024.0 * 1024.0
)
