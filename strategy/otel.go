// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package strategy

import (
	"log/slog"

	"github.com/tradeforge/core"
)

func logger() *slog.Logger {
	return tradeforge.Logger("github.com/tradeforge/core/strategy")
}
