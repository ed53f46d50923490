// Package dedupe suppresses repeated send requests. A client that resends a
// frame with the same request id inside the window gets no second message.
package dedupe
