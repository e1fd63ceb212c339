package graph

// Flavor selects the schema statement syntax of the graph server.
type Flavor string

// Supported graph servers.
const (
	FlavorMemgraph Flavor = "memgraph"
	FlavorNeo4j    Flavor = "neo4j"
)

// Label is a node label that may be interpolated into Cypher.
type Label string

// Node labels of the lineage graph.
const (
	LabelPipeline Label = "Pipeline"
	LabelScript   Label = "Script"
	LabelSchema   Label = "Schema"
	LabelTable    Label = "Table"
	LabelColumn   Label = "Column"
)

// Table types.
const (
	TableTypeTable = "TABLE"
	TableTypeFile  = "FILE"
)

const (
	mergePipeline = `MERGE (p:Pipeline {name: $pipeline_name})`

	mergeScript = `
MATCH (p:Pipeline {name: $pipeline_name})
MERGE (s:Script {name: $script_name})
ON CREATE SET s.type = 'SQL'
MERGE (p)-[:CONTAINS_SCRIPT]->(s)`

	mergeFileTable = `
MERGE (s:Schema {name: $schema_name})
MERGE (t:Table {full_name: $table_full_name})
ON CREATE SET t.name = $table_name, t.type = 'FILE'
ON MATCH SET t.type = 'FILE'
MERGE (t)-[:IN_SCHEMA]->(s)`

	mergeTargetTable = `
MERGE (s:Schema {name: $schema_name})
MERGE (t:Table {full_name: $table_full_name})
ON CREATE SET t.name = $table_name
MERGE (t)-[:IN_SCHEMA]->(s)`

	mergeTargetColumn = `
MATCH (t:Table {full_name: $table_full_name})
MERGE (c:Column {full_name: $col_full_name})
ON CREATE SET c.name = $col_name
MERGE (c)-[:IN_TABLE]->(t)`

	mergeSourceColumn = `
MERGE (s_src:Schema {name: $src_schema_name})
MERGE (t_src:Table {full_name: $src_full_table_name})
ON CREATE SET t_src.name = $src_table_name, t_src.type = 'TABLE'
MERGE (t_src)-[:IN_SCHEMA]->(s_src)
MERGE (c_src:Column {full_name: $src_col_full_name})
ON CREATE SET c_src.name = $src_col_name
MERGE (c_src)-[:IN_TABLE]->(t_src)`

	mergeDerivedFrom = `
MATCH (c_src:Column {full_name: $src_col_full_name})
MATCH (c_tgt:Column {full_name: $tgt_col_full_name})
MERGE (c_tgt)-[r:DERIVED_FROM]->(c_src)
ON CREATE SET r = $props
ON MATCH SET r += $props`

	mergeScriptColumns = `
MATCH (s:Script {name: $script_name})
MATCH (c_src:Column {full_name: $src_col_full_name})
MATCH (c_tgt:Column {full_name: $tgt_col_full_name})
MERGE (s)-[:READS_FROM]->(c_src)
MERGE (s)-[:GENERATES]->(c_tgt)`

	mergeSchemaTable = `
MERGE (s:Schema {name: $schema_name})
MERGE (t:Table {full_name: $table_full_name})
ON CREATE SET t.name = $table_name
MERGE (t)-[:IN_SCHEMA]->(s)`

	setTableComment = `
SET t.comment = $table_comment`

	mergeSchemaColumn = `
MATCH (t:Table {full_name: $table_full_name})
MERGE (c:Column {full_name: $col_full_name})
ON CREATE SET c.name = $col_name
SET c.type = $col_type`

	setColumnDescription = `
SET c.description = $col_desc`

	setColumnComment = `
SET c.comment = $col_comment`

	mergeColumnInTable = `
MERGE (c)-[:IN_TABLE]->(t)`

	updateScript = `
MATCH (s:Script {name: $script_name})
SET s.path_to_sql = $path_to_sql,
    s.sql_content = $sql_content,
    s.content_hash = $content_hash`

	// dependsOnTemplate takes the node label twice.
	dependsOnTemplate = `
MATCH (a:%[1]s {name: $from})
MATCH (b:%[1]s {name: $to})
MERGE (a)-[:DEPENDS_ON]->(b)`

	scriptNames = `
MATCH (s:Script)
WHERE s.name IS NOT NULL
RETURN DISTINCT s.name AS script_name
ORDER BY script_name`

	// The first branch carries the SQL text, the second every non-trivial
	// transformation the script performs.
	scriptLineage = `
MATCH (s:Script {name: $script_name})
RETURN s.sql_content AS sql_content,
       NULL AS reads_from,
       NULL AS writes_to,
       NULL AS transformation_type,
       NULL AS transformation_logic
UNION ALL
MATCH (s:Script {name: $script_name})
MATCH (s)-[:READS_FROM]->(input:Column)
MATCH (s)-[:GENERATES]->(output:Column)
MATCH (output)-[l:DERIVED_FROM]->(input)
WHERE l.transformation_type <> 'DIRECT INPUT'
RETURN NULL AS sql_content,
       input.full_name AS reads_from,
       output.full_name AS writes_to,
       l.transformation_type AS transformation_type,
       l.transformation_logic AS transformation_logic`

	deleteAll = `MATCH (n) DETACH DELETE n`
)

// uniqueKeys lists the identifying property of every label.
var uniqueKeys = []struct {
	Label    Label
	Property string
}{
	{LabelSchema, "name"},
	{LabelTable, "full_name"},
	{LabelColumn, "full_name"},
	{LabelPipeline, "name"},
	{LabelScript, "name"},
}

// schemaStatements returns the constraint and index statements for flavor.
func schemaStatements(flavor Flavor) []string {
	var out []string
	for _, k := range uniqueKeys {
		switch flavor {
		case FlavorNeo4j:
			// uniqueness constraints are backed by an index in Neo4j
			out = append(out,
				"CREATE CONSTRAINT IF NOT EXISTS FOR (n:"+string(k.Label)+") REQUIRE n."+k.Property+" IS UNIQUE")
		default:
			out = append(out,
				"CREATE CONSTRAINT ON (n:"+string(k.Label)+") ASSERT n."+k.Property+" IS UNIQUE",
				"CREATE INDEX ON :"+string(k.Label)+"("+k.Property+")")
		}
	}
	return out
}
