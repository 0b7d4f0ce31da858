package service

import "errors"

var (
	// ErrInvalidArgument marks malformed caller input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoData means no usable observations exist for the request
	ErrNoData = errors.New("no price data available")
)
