package main

import "errors"

var ErrNoExecutable = errors.New("no executable given: pass one positionally or via --command")
