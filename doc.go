// Package recipeauth authenticates users of a recipe content API.
//
// Users sign in one of two ways and end up with the same kind of session:
//
//   - OTP login: a six digit code is sent to an email address or phone number
//     and traded back for a session.
//   - Federated login: the OAuth2 authorization code flow against a single
//     configured identity provider (Google by default).
//
// Either way an account is found or created by the AccountResolver and a
// signed session token (HS256 JWT) is handed to the browser in the recipe_jwt
// cookie. Protected handlers are wrapped with Middleware.RequireAuthenticated
// and read the caller with UserFromContext.
//
// # Architecture
//
// Durable accounts live in an IdentityStore. Short lived OTP challenges and
// OAuth state tokens live in an EphemeralStore. Both are interfaces with
// backends in the stores sub-packages:
//
//	stores/memory   in-process ephemeral store (development, tests)
//	stores/fs       JSON files for accounts and ephemeral entries
//	stores/redis    ephemeral entries in Redis
//	stores/gorm     accounts and ephemeral entries in SQL via GORM
//	stores/gae      accounts and ephemeral entries in Cloud Datastore
//
// # Basic Usage
//
//	users := fs.NewIdentityStore(storagePath)
//	ephemeral := memory.NewStore()
//	tokens := recipeauth.NewTokenService(secret, "https://recipes.example.com", users)
//	resolver := recipeauth.NewAccountResolver(users)
//
//	otp := &recipeauth.OTPFlow{Store: ephemeral, Resolver: resolver, Notifier: &recipeauth.ConsoleNotifier{}}
//	federation := &recipeauth.FederationFlow{
//	    Provider: oauth2.NewGoogleProvider(oauth2.Credentials{ClientID: id, ClientSecret: secret, RedirectURL: callbackURL}),
//	    Store:    ephemeral,
//	    Resolver: resolver,
//	    Tokens:   tokens,
//	}
//
//	auth := recipeauth.New(tokens, otp, federation)
//	http.ListenAndServe(":8080", auth.Handler())
//
// # Sessions
//
// Sessions are stateless. Logging out only clears the cookie; a copied token
// stays valid until it expires. Tokens carry a unique jti claim should a
// revocation list ever be needed.
package recipeauth
