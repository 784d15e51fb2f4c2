// Package idp reconciles the external identity provider with the
// master configuration. The platform never stores the IDP's database;
// Bootstrap ensures the realm, the confidential client, the permission
// group taxonomy, the group token mapper and the administrator account
// exist and match the desired state, and hands back the client secret
// for persistence. The same client exposes the admin user-management
// calls the control API proxies for operators.
//
// Every ensure step is find-then-create-or-update, so running Bootstrap
// against a converged IDP performs nothing but reads and a token
// request. Admin calls retry transport failures with linear backoff.
package idp
