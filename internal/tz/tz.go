// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package tz centralises the single timezone every store read/write path
// normalises against, rather than scattering time.LoadLocation calls (and
// the risk of them failing differently at each call site) through the
// store packages.
package tz

import "time"

var Moscow = mustLoad("Europe/Moscow")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("tz: failed to load location " + name + ": " + err.Error())
	}
	return loc
}

// Normalize returns t in the Moscow location, the timezone every candle
// and indicator timestamp in ClickHouse is stored and compared in.
func Normalize(t time.Time) time.Time {
	return t.In(Moscow)
}
