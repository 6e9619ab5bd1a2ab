package db

// SchemaSQL defines the side value table. Record ids are "<kind>|su|rack|process".
const SchemaSQL = `
    DEFINE TABLE IF NOT EXISTS side_value SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS kind ON side_value TYPE string ASSERT $value IN ["note", "responsible"];
    DEFINE FIELD IF NOT EXISTS key ON side_value TYPE string;
    DEFINE FIELD IF NOT EXISTS value ON side_value TYPE string;
    DEFINE FIELD IF NOT EXISTS modified ON side_value TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS side_value_key ON side_value FIELDS key;
`
