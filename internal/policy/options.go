package policy

import "capitania.club/internal/member"

// Option is one button the management screen may offer for a target.
type Option struct {
	Action  Action      `json:"action"`
	Label   string      `json:"label"`
	NewRole member.Role `json:"new_role,omitempty"`
}

// Menu is what the management screen shows for a selected member. When
// Notice is set no action is offered.
type Menu struct {
	Notice  string   `json:"notice,omitempty"`
	Options []Option `json:"options"`
}

// Options builds the management menu for target as seen by actor. The
// master check is shown before the self check.
func (p *Policy) Options(actor, target *member.Profile) (Menu, error) {
	if actor == nil {
		return Menu{}, ErrMissingActor
	}
	if target == nil {
		return Menu{}, ErrMissingTarget
	}
	if p.IsMaster(*target) {
		return Menu{Notice: reasons[CodeTargetMaster], Options: []Option{}}, nil
	}
	if target.ID == actor.ID {
		return Menu{Notice: reasons[CodeSelf], Options: []Option{}}, nil
	}

	menu := Menu{Options: []Option{}}
	if d, err := p.Evaluate(Request{Action: ActionToggleActiveStatus, Actor: actor, Target: target}); err != nil {
		return Menu{}, err
	} else if d.Allowed {
		label := "Ativar Membro"
		if target.IsActive {
			label = "Desativar Membro"
		}
		menu.Options = append(menu.Options, Option{Action: ActionToggleActiveStatus, Label: label})
	}

	newRole, label := member.RoleAdmin, "Tornar Administrador"
	if target.Role == member.RoleAdmin {
		newRole, label = member.RoleSocio, "Rebaixar para Sócio"
	}
	if d, err := p.Evaluate(Request{Action: ActionChangeRole, Actor: actor, Target: target, NewRole: newRole}); err != nil {
		return Menu{}, err
	} else if d.Allowed {
		menu.Options = append(menu.Options, Option{Action: ActionChangeRole, Label: label, NewRole: newRole})
	}

	if d, err := p.Evaluate(Request{Action: ActionRemoveMember, Actor: actor, Target: target}); err != nil {
		return Menu{}, err
	} else if d.Allowed {
		menu.Options = append(menu.Options, Option{Action: ActionRemoveMember, Label: "Remover permanentemente"})
	}
	return menu, nil
}
