// Package rbac evaluates role and scope rules for dashboard actions.
//
// A Permission grants a role over a (project, environment, resources) scope,
// each part matching exactly or via the "*" wildcard. Roles form a total
// order viewer < operator < admin; among the permissions that apply to a
// request, the highest role wins, and the action's minimum role decides the
// outcome. Actions not in the table require admin, so new endpoints fail
// closed until someone classifies them.
package rbac
