//go:build !darwin && !linux

package ptyio

func New(Options) (PTY, error) { return nil, ErrUnsupported }
