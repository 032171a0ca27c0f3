/*
Package client is the Go-idiomatic wrapper cmd/stairway's CLI subcommands
call into, so main.go never builds HTTP requests by hand.

It speaks plain JSON over net/http to pkg/api's routes; there is no
connection state to manage beyond a *http.Client, since the administrative
API is stateless request/response, not a long-lived stream.

	cli := client.NewClient("http://127.0.0.1:8080")
	err := cli.Submit(ctx, "order-42", "order-fulfillment", types.InputParams{"order_id": "42"})
	row, err := cli.Get(ctx, "order-42")
*/
package client
