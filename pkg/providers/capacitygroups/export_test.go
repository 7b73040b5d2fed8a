package capacitygroups

var MinHealthyPercentage = minHealthyPercentage
