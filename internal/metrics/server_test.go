// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_Run(t *testing.T) {
	t.Run("will not return an error", func(t *testing.T) {
		t.Run("if the context is cancelled before running", func(t *testing.T) {
			srv, err := NewServer(0)
			if !assert.Nil(t, err) {
				return
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			err = srv.Run(ctx)
			assert.Nil(t, err)
		})

		t.Run("if a scrape request succeeds while running", func(t *testing.T) {
			srv, err := NewServer(0)
			if !assert.Nil(t, err) {
				return
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				defer close(errCh)
				errCh <- srv.Run(ctx)
			}()

			resp, err := http.DefaultClient.Get(fmt.Sprintf("http://%s/metrics", srv.Addr()))
			if !assert.Nil(t, err) {
				return
			}
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			cancel()
			assert.Nil(t, <-errCh)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the port is already in use", func(t *testing.T) {
			srv, err := NewServer(0)
			if !assert.Nil(t, err) {
				return
			}
			defer srv.ls.Close()

			port := srv.ls.Addr().(*net.TCPAddr).Port
			_, err = NewServer(uint(port))
			assert.NotNil(t, err)
		})
	})
}
