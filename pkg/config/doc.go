/*
Package config manages the master configuration document.

The master config is the single source of truth for an installation:
host identity, identity-provider settings, database admin endpoints and
per-app overrides. It lives at instance/configs/master_config.json and
is written atomically (temp file + rename) so a crash mid-save never
leaves a torn document.

Store serializes all access behind an RWMutex and hands out deep-copied
snapshots; handlers never see live internal state. Load is fatal on
malformed JSON: the operator fixes the file, the orchestrator does not
guess.

Legacy documents using the first-generation section names (keycloak,
databases.postgresql, databases.neo4j, app "database"/"sections" keys)
are migrated transparently on load and written back in the current
shape on the next save.
*/
package config
