package membership

import "testing"

func TestRoleChecker_AdminCanEverything(t *testing.T) {
	c := RoleChecker{}
	ops := []Operation{OpStage, OpResolve, OpApply, OpReview, OpAdminVariation}
	for _, op := range ops {
		if !c.Can(1, []string{"Admin"}, op) {
			t.Fatalf("admin denied %s", op)
		}
	}
}

func TestRoleChecker_EditorScopes(t *testing.T) {
	c := RoleChecker{}
	roles := []string{"Editor"}

	for _, op := range []Operation{OpStage, OpResolve, OpApply} {
		if !c.Can(2, roles, op) {
			t.Fatalf("editor denied %s", op)
		}
	}
	if c.Can(2, roles, OpReview) {
		t.Fatal("editor should not review")
	}
	if c.Can(2, roles, OpAdminVariation) {
		t.Fatal("editor should not administer variations")
	}
}

func TestRoleChecker_ApproverReviewsOnly(t *testing.T) {
	c := RoleChecker{}
	roles := []string{"Approver"}

	if !c.Can(3, roles, OpReview) {
		t.Fatal("approver denied review")
	}
	if c.Can(3, roles, OpStage) {
		t.Fatal("approver should not stage")
	}
}

func TestRoleChecker_NoRoles(t *testing.T) {
	c := RoleChecker{}
	if c.Can(4, nil, OpStage) {
		t.Fatal("no roles should be denied")
	}
}
