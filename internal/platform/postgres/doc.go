// Package postgres provides PostgreSQL implementations of the store
// interfaces using database/sql over the pgx stdlib driver.
//
// Each store accepts a store.DBTX so the same queries run inside or outside
// a transaction; WithTx rebinds a store to a caller-managed *sql.Tx. Claim
// and the eligibility query push the dispatcher's atomicity requirements
// into SQL: a task moves to running through a conditional update, and
// dependency gating is evaluated in the selection query itself.
package postgres
