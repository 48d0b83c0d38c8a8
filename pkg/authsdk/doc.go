/*
Package authsdk is a Go client for the FinTab authentication service.

# SDKClient vs Session

  - SDKClient: unauthenticated operations (register, login, refresh, email verification, health)
  - Session: authenticated operations with automatic token refresh

	client := authsdk.NewSDKClient("https://auth.example.com")

	if _, err := client.Register(ctx, authsdk.RegisterRequest{Email: email, Password: pw}); err != nil {
		return err
	}

	session, err := client.Login(ctx, authsdk.LoginRequest{Email: email, Password: pw})
	if errors.Is(err, authsdk.ErrMFARequired) {
		session, err = client.Login(ctx, authsdk.LoginRequest{Email: email, Password: pw, MFAToken: code})
	}

	profile, err := session.Profile(ctx)
	_ = session.Logout(ctx)

# Errors

Non-2xx responses are returned as *APIError carrying the status code, the
server message and, where the server sets one, a machine readable code such
as "INVALID_MFA".

	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// log in again
	}

# Thread Safety

SDKClient and Session are safe for concurrent use. A Session serialises
refreshes so concurrent callers never spend the same refresh token twice.
*/
package authsdk
