package mysql

// Note: `text` is reserved; keep it quoted everywhere.

// Content fields only on duplicate: visible, is_manual and source belong to
// the curator and must survive re-syncs.
const upsertReviewSQL = "INSERT INTO reviews\n" +
	"  (fingerprint, place_ref, platform, author_name, author_photo_url, author_profile_url,\n" +
	"   rating, `text`, occurred_at, ingested_at, visible, is_manual, source,\n" +
	"   response_text, responded_at, verified)\n" +
	"VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)\n" +
	"ON DUPLICATE KEY UPDATE\n" +
	"  platform           = VALUES(platform),\n" +
	"  author_name        = VALUES(author_name),\n" +
	"  author_photo_url   = VALUES(author_photo_url),\n" +
	"  author_profile_url = VALUES(author_profile_url),\n" +
	"  rating             = VALUES(rating),\n" +
	"  `text`             = VALUES(`text`),\n" +
	"  occurred_at        = VALUES(occurred_at),\n" +
	"  ingested_at        = VALUES(ingested_at),\n" +
	"  response_text      = VALUES(response_text),\n" +
	"  responded_at       = VALUES(responded_at),\n" +
	"  verified           = VALUES(verified)\n"

const insertManualSQL = "INSERT INTO reviews\n" +
	"  (fingerprint, place_ref, platform, author_name, author_photo_url, author_profile_url,\n" +
	"   rating, `text`, occurred_at, ingested_at, visible, is_manual, source,\n" +
	"   response_text, responded_at, verified)\n" +
	"VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)\n"

const selectReviewCols = "id, fingerprint, place_ref, platform, author_name, author_photo_url, " +
	"author_profile_url, rating, `text`, occurred_at, ingested_at, visible, is_manual, source, " +
	"response_text, responded_at, verified"

const getByFingerprintSQL = "SELECT " + selectReviewCols + " FROM reviews WHERE fingerprint = ?"

const existingFingerprintsSQL = `
SELECT fingerprint FROM reviews WHERE source = 'api' AND place_ref = ?`

const setVisibilitySQL = `UPDATE reviews SET visible = ? WHERE id = ?`

const updateTextSQL = "UPDATE reviews SET `text` = ? WHERE id = ?"

const deleteReviewSQL = `DELETE FROM reviews WHERE id = ?`

const latestAPIIngestedSQL = `
SELECT MAX(ingested_at) FROM reviews WHERE source = 'api' AND place_ref = ?`

// Stats run over visible rows of the place plus all manual rows.
const statsAggregateSQL = "SELECT\n" +
	"  COUNT(*),\n" +
	"  COALESCE(AVG(rating), 0),\n" +
	"  SUM(rating = 1), SUM(rating = 2), SUM(rating = 3), SUM(rating = 4), SUM(rating = 5),\n" +
	"  MAX(occurred_at)\n" +
	"FROM reviews\n" +
	"WHERE visible = 1 AND (place_ref = ? OR is_manual = 1)"

const statsPlatformSQL = `
SELECT platform, COUNT(*)
FROM reviews
WHERE visible = 1 AND (place_ref = ? OR is_manual = 1)
GROUP BY platform`

// A sync attempt is recorded even when no rows were written, so the
// cooldown gate survives caught-up fetches.
const recordSyncAttemptSQL = `
INSERT INTO sync_state (place_ref, last_synced_at) VALUES (?, ?)
ON DUPLICATE KEY UPDATE last_synced_at = VALUES(last_synced_at)
`

const lastSyncAttemptSQL = `
SELECT last_synced_at FROM sync_state WHERE place_ref = ?`

const upsertMetadataSQL = `
INSERT INTO place_metadata (place_ref, total_reviews, average_rating, fetched_at)
VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  total_reviews  = VALUES(total_reviews),
  average_rating = VALUES(average_rating),
  fetched_at     = VALUES(fetched_at)
`

const getMetadataSQL = `
SELECT place_ref, total_reviews, average_rating, fetched_at
FROM place_metadata WHERE place_ref = ?`

// Ledger: count = count + n is the atomic persisted increment; no
// read-modify-write race between concurrent debits.
const ledgerIncrementSQL = `
INSERT INTO usage_ledger (period_key, count) VALUES (?, ?)
ON DUPLICATE KEY UPDATE count = count + VALUES(count)
`

const ledgerPruneMonthsSQL = `
DELETE FROM usage_ledger WHERE period_key LIKE 'm:%' AND period_key NOT IN`

const ledgerPruneDaysSQL = `
DELETE FROM usage_ledger WHERE period_key LIKE 'd:%' AND period_key NOT IN`
