// Package model defines the items both stores hold and the values the sync
// engine passes between its stages.
//
// An Item is either a contact or an appointment. Content fields are copied
// between stores; ID, Version, Created and Modified are owned by the store
// that holds the item. Link state lives in Metadata (see package link), so
// a pass needs no side database.
//
// Key design constraints:
//   - Content comparison uses Fingerprint, never reflect.DeepEqual
//   - Recurrence is kept in the store's native shape (Pattern or Series)
//   - All JSON tags use snake_case
package model
