/*
Package passwordless implements "magic link" sign in: a user asks for a link,
receives a single-use token by mail, and redeems it for an authenticated
principal.

Create a token store. `MemStore` holds tokens in memory and purges them once
they expire:

	store := passwordless.NewMemStore(time.Minute)
	defer store.Release()

Then create an instance with a transport that delivers links, and a user
lookup that turns usernames into principals. `LogTransport` writes the link
to the context logger, which is handy while developing:

	pw, err := passwordless.New(store, passwordless.LogTransport{},
		passwordless.AnyUser{},
		passwordless.WithRedeemBaseURL("https://example.com/login/ott"),
		passwordless.WithTTL(5*time.Minute))

When the user wants to sign in, request a token. The acknowledgement is the
same whether or not the user exists, so it can be returned to the client
as is:

	ack, err := pw.RequestToken(ctx, r.FormValue("username"))

Delivery runs in the background so the reply looks the same whether or not
the link could be sent. Call Wait before exiting to let pending deliveries
finish.

The user receives a link of the form
`https://example.com/login/ott?token=...`. When it is followed, redeem the
token:

	principal, err := pw.Redeem(ctx, r.FormValue("token"))

A token can be redeemed once. Any failure matches ErrAuthenticationFailed;
the *AuthError it wraps records whether the token was unknown, expired or
already used, for logging only.

A complete HTTP service can be found in the "cmd/magiclink" directory.
*/
package passwordless
