package sqlite

// Schema version for migration management
const SchemaVersion = 2

// SQL statements for database schema creation.
// Entity tables keep the full record as JSON in data and copy the fields we
// query on into indexed columns. Foreign keys are plain columns because
// records created offline reference ids the server has not assigned yet.

// ContactsTableSQL creates the contacts table
const ContactsTableSQL = `
CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    first_name TEXT,
    last_name TEXT,
    email TEXT,
    company_id TEXT,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// CompaniesTableSQL creates the companies table
const CompaniesTableSQL = `
CREATE TABLE IF NOT EXISTS companies (
    id TEXT PRIMARY KEY,
    name TEXT,
    domain TEXT,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// DealsTableSQL creates the deals table
const DealsTableSQL = `
CREATE TABLE IF NOT EXISTS deals (
    id TEXT PRIMARY KEY,
    name TEXT,
    stage TEXT,
    pipeline TEXT,
    company_id TEXT,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// TicketsTableSQL creates the tickets table
const TicketsTableSQL = `
CREATE TABLE IF NOT EXISTS tickets (
    id TEXT PRIMARY KEY,
    subject TEXT,
    status TEXT,
    priority TEXT,
    contact_id TEXT,
    company_id TEXT,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// ActivitiesTableSQL creates the activities table (notes, calls, emails, meetings)
const ActivitiesTableSQL = `
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL CHECK(type IN ('note', 'call', 'email', 'meeting')),
    timestamp INTEGER,
    contact_id TEXT,
    company_id TEXT,
    deal_id TEXT,
    ticket_id TEXT,
    sync_status TEXT NOT NULL DEFAULT 'synced',
    updated_at INTEGER NOT NULL,
    data TEXT NOT NULL
);
`

// SyncQueueTableSQL creates the mutation queue. The autoincrement id is the
// processing order and is never reused.
const SyncQueueTableSQL = `
CREATE TABLE IF NOT EXISTS sync_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    operation TEXT NOT NULL CHECK(operation IN ('create', 'update', 'delete')),
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    payload TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'failed')),
    last_error TEXT
);
`

// SyncLockTableSQL holds the pass lease. One row per lock name; a holder
// renews expires_at (epoch millis) while it works.
const SyncLockTableSQL = `
CREATE TABLE IF NOT EXISTS sync_lock (
    name TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at INTEGER NOT NULL
);
`

// SchemaVersionTableSQL creates the schema version table for migration tracking
const SchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`

// Index creation statements

const ContactsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_contacts_company_id ON contacts(company_id);
CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_contacts_sync_status ON contacts(sync_status);
CREATE INDEX IF NOT EXISTS idx_contacts_updated_at ON contacts(updated_at);
`

const CompaniesIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name);
CREATE INDEX IF NOT EXISTS idx_companies_sync_status ON companies(sync_status);
CREATE INDEX IF NOT EXISTS idx_companies_updated_at ON companies(updated_at);
`

const DealsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_company_id ON deals(company_id);
CREATE INDEX IF NOT EXISTS idx_deals_sync_status ON deals(sync_status);
CREATE INDEX IF NOT EXISTS idx_deals_updated_at ON deals(updated_at);
`

const TicketsIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
CREATE INDEX IF NOT EXISTS idx_tickets_contact_id ON tickets(contact_id);
CREATE INDEX IF NOT EXISTS idx_tickets_company_id ON tickets(company_id);
CREATE INDEX IF NOT EXISTS idx_tickets_sync_status ON tickets(sync_status);
CREATE INDEX IF NOT EXISTS idx_tickets_updated_at ON tickets(updated_at);
`

const ActivitiesIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(type);
CREATE INDEX IF NOT EXISTS idx_activities_timestamp ON activities(timestamp);
CREATE INDEX IF NOT EXISTS idx_activities_contact_id ON activities(contact_id);
CREATE INDEX IF NOT EXISTS idx_activities_company_id ON activities(company_id);
CREATE INDEX IF NOT EXISTS idx_activities_deal_id ON activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_activities_ticket_id ON activities(ticket_id);
CREATE INDEX IF NOT EXISTS idx_activities_sync_status ON activities(sync_status);
`

const SyncQueueIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_sync_queue_operation ON sync_queue(operation);
CREATE INDEX IF NOT EXISTS idx_sync_queue_entity ON sync_queue(entity_kind, entity_id);
CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue(timestamp);
CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status);
`

// AllTableSchemas returns all table creation statements in order
func AllTableSchemas() []string {
	return []string{
		SchemaVersionTableSQL,
		ContactsTableSQL,
		CompaniesTableSQL,
		DealsTableSQL,
		TicketsTableSQL,
		ActivitiesTableSQL,
		SyncQueueTableSQL,
		SyncLockTableSQL,
	}
}

// AllIndexes returns all index creation statements
func AllIndexes() []string {
	return []string{
		ContactsIndexesSQL,
		CompaniesIndexesSQL,
		DealsIndexesSQL,
		TicketsIndexesSQL,
		ActivitiesIndexesSQL,
		SyncQueueIndexesSQL,
	}
}

// PragmaStatements returns pragma statements to execute on database connection
func PragmaStatements() []string {
	return []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
}
