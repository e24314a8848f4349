package postgres

// queryTenantSchemas lists non-system schemas whose name starts with $1.
// The prefix is matched literally, so LIKE wildcards in it are escaped.
const queryTenantSchemas = `
	SELECT s.schema_name
	FROM information_schema.schemata s
	WHERE s.schema_name NOT IN ('pg_catalog', 'information_schema', 'public')
		AND s.schema_name NOT LIKE 'pg\_%'
		AND s.schema_name LIKE replace(replace(replace($1, '\', '\\'), '%', '\%'), '_', '\_') || '%'
	ORDER BY s.schema_name`
